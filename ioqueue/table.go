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

// MaxQueueDepth is the number of queues a Manager can hold open.
const MaxQueueDepth = 40

// QD is a queue descriptor.
type QD int

// table maps descriptors to resources. The lowest free descriptor is
// always handed out first.
type table struct {
	slots [MaxQueueDepth]resource
	n     int
}

func (t *table) full() bool { return t.n == MaxQueueDepth }

func (t *table) insert(r resource) (QD, bool) {
	for i := range t.slots {
		if t.slots[i] == nil {
			t.slots[i] = r
			t.n++
			return QD(i), true
		}
	}
	return -1, false
}

func (t *table) get(qd QD) resource {
	if qd < 0 || int(qd) >= len(t.slots) {
		return nil
	}
	return t.slots[qd]
}

func (t *table) remove(qd QD) resource {
	r := t.get(qd)
	if r != nil {
		t.slots[qd] = nil
		t.n--
	}
	return r
}

// each calls f for every open descriptor in ascending order.
func (t *table) each(f func(qd QD, r resource)) {
	for i, r := range t.slots {
		if r != nil {
			f(QD(i), r)
		}
	}
}
