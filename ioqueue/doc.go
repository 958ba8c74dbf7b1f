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

// Package ioqueue treats sockets and files as queues of scatter-gather
// messages.
//
// A Manager hands out small integer queue descriptors. Push and Pop either
// finish on the spot, returning a zero token, or return a token that a later
// WaitAny or WaitAll resolves:
//
//	m, _ := ioqueue.New()
//	defer m.Shutdown()
//
//	qd, _ := m.Queue(unix.AF_INET, unix.SOCK_STREAM, 0)
//	...
//	res, err := m.Pop(qd, sga.Alloc(1, 4096))
//	if res.Pending() {
//		_, c, err := m.WaitAny([]ioqueue.QToken{res.Token})
//		...
//	}
//
// The kernel mechanism underneath is a driver.Driver, epoll by default.
package ioqueue
