package zookeeper

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const lockRoot = "/monat/locks"

// Conn 封装一个 ZooKeeper 会话。
type Conn struct {
	*zk.Conn
}

// Connect 建立 ZooKeeper 会话。
func Connect(servers []string) (*Conn, error) {
	conn, _, err := zk.Connect(servers, 10*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "zk connect")
	}
	return &Conn{Conn: conn}, nil
}

// DistributedLock 是基于临时顺序节点的分布式锁。
// 后台单例任务(outbox 发布器、预占过期回收)用它保证同一时刻
// 只有一个实例在工作。
type DistributedLock struct {
	conn     *Conn
	path     string // 锁的父路径，例如 /monat/locks/outbox-publisher
	lockNode string // 获取锁后自己创建的节点
}

// NewDistributedLock 创建锁实例并确保父路径存在。
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	if err := ensurePath(conn, lockRoot); err != nil {
		return nil, err
	}
	lockPath := lockRoot + "/" + resourceID
	if err := ensurePath(conn, lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensurePath(conn *Conn, path string) error {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		exists, _, err := conn.Exists(cur)
		if err != nil {
			return errors.Wrapf(err, "zk exists %s", cur)
		}
		if exists {
			continue
		}
		if _, err := conn.Create(cur, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			return errors.Wrapf(err, "zk create %s", cur)
		}
	}
	return nil
}

// TryLock 非阻塞地尝试获取锁。返回 false 表示锁已被其他实例持有。
func (l *DistributedLock) TryLock() (bool, error) {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return false, errors.Wrap(err, "create sequential node")
	}
	l.lockNode = nodePath

	lowest, err := l.isLowestNode()
	if err != nil {
		_ = l.Unlock()
		return false, err
	}
	if !lowest {
		// 没抢到，立刻把自己的节点删掉，避免占用队列位置
		_ = l.Unlock()
		return false, nil
	}
	return true, nil
}

// Lock 阻塞等待直到获取锁或超时。
func (l *DistributedLock) Lock(timeout time.Duration) error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential node")
	}
	l.lockNode = nodePath
	deadline := time.Now().Add(timeout)

	for {
		lowest, prev, err := l.lowestOrPredecessor()
		if err != nil {
			return err
		}
		if lowest {
			return nil
		}

		// 只 watch 自己的前驱节点，避免惊群
		exists, _, eventChan, err := l.conn.ExistsW(l.path + "/" + prev)
		if err != nil {
			return errors.Wrap(err, "watch predecessor")
		}
		if !exists {
			continue
		}

		select {
		case ev := <-eventChan:
			if ev.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(time.Until(deadline)):
			_ = l.Unlock()
			return errors.New("timeout waiting for lock")
		}
	}
}

// Unlock 释放锁。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return nil
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return errors.Wrap(err, "delete lock node")
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) isLowestNode() (bool, error) {
	lowest, _, err := l.lowestOrPredecessor()
	return lowest, err
}

// lowestOrPredecessor 返回自己是否持有最小序号，否则返回前驱节点名。
func (l *DistributedLock) lowestOrPredecessor() (bool, string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return false, "", errors.Wrap(err, "list children")
	}
	sort.Slice(children, func(i, j int) bool {
		return sequence(children[i]) < sequence(children[j])
	})

	mine := l.lockNode[strings.LastIndex(l.lockNode, "/")+1:]
	for i, child := range children {
		if child != mine {
			continue
		}
		if i == 0 {
			return true, "", nil
		}
		return false, children[i-1], nil
	}
	return false, "", fmt.Errorf("own lock node %s disappeared", mine)
}

// sequence 提取顺序节点末尾的序号。protected 节点名带 GUID 前缀，
// 但序号始终是最后 10 位数字。
func sequence(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}
