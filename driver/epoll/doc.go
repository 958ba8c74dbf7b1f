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

// Package epoll implements a readiness-based queue driver on Linux epoll(7).
//
// The Poller keeps a FIFO of pending ops per descriptor and direction. When
// epoll reports a descriptor ready, the head ops are retried with
// driver.Try until one would block again; finished ops are returned by Reap.
package epoll
