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

// Package uring implements driver.Driver on io_uring.
//
// Each descriptor keeps one FIFO per direction and only the head of a FIFO
// is in the ring at a time. Sockets are non-blocking, so a READV or WRITEV
// that finds nothing to do comes back with -EAGAIN; the head then switches
// to a one-shot POLL_ADD and is retried when the poll fires.
package uring
