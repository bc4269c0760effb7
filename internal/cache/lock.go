package cache

import (
	"fmt"
	"os"
)

// fileLock 是跨进程的独占锁。锁由操作系统持有，进程退出（包括崩溃）后自动失效；
// 锁文件本身保留在磁盘上，避免删除后其它进程锁住已脱离目录项的旧 inode。
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// TryLock 以非阻塞方式获取锁，已被其它持有者占用时返回 false。
func (l *fileLock) TryLock() (bool, error) {
	if l.file != nil {
		return false, fmt.Errorf("lock %s already held", l.path)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return false, err
	}
	ok, err := tryLockFile(f)
	if err != nil || !ok {
		f.Close()
		return false, err
	}
	l.file = f
	return true, nil
}

// Unlock 释放锁，未持有时为空操作。
func (l *fileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	if closeErr := l.file.Close(); err == nil {
		err = closeErr
	}
	l.file = nil
	return err
}
