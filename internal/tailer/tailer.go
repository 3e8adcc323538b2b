package tailer

import (
	"bufio"
	"io"
	"os"
	"strings"
	"syscall"
)

// TailFile 跟踪单个日志文件的追加内容，类似 tail -F
// 通过 inode 检测轮转；轮转后从新文件头部重新读取。
type TailFile struct {
	path       string
	startAtEnd bool

	f          *os.File
	inode      uint64
	pos        int64
	openedOnce bool
}

// New 创建 tailer；startAtEnd=true 时首次打开从文件末尾开始
func New(path string, startAtEnd bool) *TailFile {
	return &TailFile{path: path, startAtEnd: startAtEnd}
}

// tryOpen 打开或在轮转后重新打开文件
func (t *TailFile) tryOpen() {
	st, err := os.Stat(t.path)
	if err != nil {
		// 文件尚不存在，下次调用重试
		return
	}
	var inode uint64
	if sys, ok := st.Sys().(*syscall.Stat_t); ok {
		inode = sys.Ino
	}

	if t.f == nil {
		f, err := os.Open(t.path)
		if err != nil {
			return
		}
		t.f = f
		t.inode = inode
		if t.startAtEnd && !t.openedOnce {
			if end, err := f.Seek(0, io.SeekEnd); err == nil {
				t.pos = end
			}
			t.openedOnce = true
		} else {
			if _, err := f.Seek(t.pos, io.SeekStart); err != nil {
				t.reset()
			}
		}
		return
	}

	// 已打开：inode 变化说明发生了轮转
	if inode != t.inode {
		t.f.Close()
		f, err := os.Open(t.path)
		if err != nil {
			t.f = nil
			t.inode = 0
			return
		}
		t.f = f
		t.inode = inode
		t.pos = 0
	}
}

func (t *TailFile) reset() {
	if t.f != nil {
		t.f.Close()
	}
	t.f = nil
	t.inode = 0
}

// ReadAvailable 读取自上次调用以来新增的整行，最多 maxLines 条
// 末尾未带换行符的半行留到下次调用再取。
func (t *TailFile) ReadAvailable(maxLines int) []string {
	t.tryOpen()
	if t.f == nil {
		return nil
	}

	var out []string
	r := bufio.NewReader(t.f)
	for len(out) < maxLines {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				// 读错误：下次调用从头重试
				t.reset()
				return out
			}
			break
		}
		t.pos += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		out = append(out, strings.ToValidUTF8(line, "�"))
	}

	// 回退到最后一个完整行之后，半行下次重新读取
	if _, err := t.f.Seek(t.pos, io.SeekStart); err != nil {
		t.reset()
	}
	return out
}

// Close 关闭底层文件句柄
func (t *TailFile) Close() {
	t.reset()
}
