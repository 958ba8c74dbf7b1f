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

package cmd

import (
	"fmt"
	"io"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/ioqueue"
	"github.com/cloudwego/ioqueue/sga"
)

var (
	copyMode   string
	copyAppend bool
)

var catCmd = &cobra.Command{
	Use:   "cat <file>...",
	Short: "Print files through file queues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			qd, err := mgr.Open(path, unix.O_RDONLY)
			if err != nil {
				return err
			}
			_, err = drain(mgr, qd, cfg.Buffer, func(arr *sga.SGArray) error {
				for _, b := range arr.Segments() {
					if _, err := cmd.OutOrStdout().Write(b); err != nil {
						return err
					}
				}
				return nil
			})
			mgr.Close(qd)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <src> <dst>",
	Short: "Copy a file by popping from one queue and pushing to another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(copyMode)
		if err != nil {
			return err
		}
		src, err := mgr.Open(args[0], unix.O_RDONLY)
		if err != nil {
			return err
		}
		defer mgr.Close(src)

		flags := unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
		if copyAppend {
			flags = unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND
		}
		dst, err := mgr.Open(args[1], flags, mode)
		if err != nil {
			return err
		}
		defer mgr.Close(dst)

		n, err := copyQueue(mgr, dst, src, cfg.Buffer)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", errFmt("failed:"), err)
			return err
		}
		logger.Debug("copy done", zap.String("src", args[0]), zap.String("dst", args[1]), zap.Int64("bytes", n))
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s (%d bytes)\n", okFmt("copied"), args[0], args[1], n)
		return nil
	},
}

func init() {
	copyCmd.Flags().StringVar(&copyMode, "mode", "644", "Permission bits of a created destination, in octal")
	copyCmd.Flags().BoolVarP(&copyAppend, "append", "a", false, "Append to the destination instead of truncating it")
	rootCmd.AddCommand(catCmd, copyCmd)
}

// drain pops qd until end of stream, handing each filled array to f.
func drain(m *ioqueue.Manager, qd ioqueue.QD, bc BufferConfig, f func(*sga.SGArray) error) (int64, error) {
	buf := mcache.Malloc(bc.Size)
	defer mcache.Free(buf)
	var total int64
	for {
		arr := sga.Split(buf, bc.Segments)
		c, err := m.BlockingPop(qd, arr)
		if err != nil {
			return total, err
		}
		if c.N == 0 {
			return total, nil
		}
		total += int64(c.N)
		if err = f(arr); err != nil {
			return total, err
		}
	}
}

// copyQueue moves everything from src to dst.
func copyQueue(m *ioqueue.Manager, dst, src ioqueue.QD, bc BufferConfig) (int64, error) {
	return drain(m, src, bc, func(arr *sga.SGArray) error {
		c, err := m.BlockingPush(dst, arr)
		if err != nil {
			return err
		}
		if c.N != arr.Len() {
			return io.ErrShortWrite
		}
		return nil
	})
}
