// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ioqueue

import (
	"github.com/cloudwego/ioqueue/driver"
)

// QueueKind is the kind of resource behind a descriptor.
type QueueKind uint8

const (
	QueueSocket QueueKind = iota + 1
	QueueFile
	QueueMerged
)

func (k QueueKind) String() string {
	switch k {
	case QueueSocket:
		return "socket"
	case QueueFile:
		return "file"
	case QueueMerged:
		return "merged"
	}
	return "unknown"
}

// resource is one entry of the descriptor table.
type resource interface {
	Kind() QueueKind
	// nat is the descriptor that services I/O, nil for merged queues.
	nat() *native
}

// native is an attached kernel descriptor.
type native struct {
	fd       int
	pollable bool
	closed   bool

	// ops queued in the driver per direction; a new op only takes the fast
	// path when its direction is idle
	inPending  int
	outPending int
}

func (n *native) nat() *native { return n }

func (n *native) pending(k driver.OpKind) *int {
	if k.Inbound() {
		return &n.inPending
	}
	return &n.outPending
}

type socketQueue struct {
	native
	domain, typ, proto int

	bound     bool
	listening bool
	connected bool
}

func (*socketQueue) Kind() QueueKind { return QueueSocket }

type fileQueue struct {
	native
	path  string
	flags int
	mode  uint32
}

func (*fileQueue) Kind() QueueKind { return QueueFile }

// mergedQueue dispatches round-robin over its members. A member counts only
// while its slot still holds the resource it held at merge time.
type mergedQueue struct {
	members [2]QD
	ids     [2]*native
	next    int
}

func (*mergedQueue) Kind() QueueKind { return QueueMerged }
func (*mergedQueue) nat() *native { return nil }
