// Package consensus adapts the replicated log the coordinator relies on
// onto a small typed interface: Read, DirtyRead, Write, Delete and
// Leader. It is backed by ZooKeeper, with the coordinator's flat key
// namespace (ND, MT, PN, PART:<id>) mapped under a single znode subtree.
//
// Every key-value operation (Read, DirtyRead, Write, Delete) retries a
// bounded number of times against a fresh connection on failure; retry
// exhaustion surfaces as an error rather than a panic, since the
// dispatcher must keep running through a transient ZooKeeper hiccup. The
// election calls (Campaign, Leader) make a single attempt and return any
// failure to the caller.
package consensus

import (
	"path"
	"sync"
	"time"

	"github.com/samuel/go-zookeeper/zk"
	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/coordinatorerr"
)

const (
	maxRetries     = 10
	connectTimeout = 10 * time.Second
	rootPath       = "/metacoord"
	electionPath   = rootPath + "/election"
	dataPath       = rootPath + "/kv"
)

// Store is a ZooKeeper-backed implementation of the consensus KV adapter.
type Store struct {
	ensemble []string

	mu   sync.Mutex
	conn *zk.Conn
}

// NewStore connects to the given ZooKeeper ensemble and ensures the
// coordinator's root namespace exists.
func NewStore(ensemble []string) (*Store, error) {
	s := &Store{ensemble: ensemble}
	if err := s.connect(); err != nil {
		return nil, err
	}
	if err := s.ensurePath(dataPath); err != nil {
		return nil, err
	}
	if err := s.ensurePath(electionPath); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, _, err := zk.Connect(s.ensemble, connectTimeout)
	if err != nil {
		return coordinatorerr.UnavailableWrap("zk connect", err)
	}
	s.conn = conn
	return nil
}

func (s *Store) getConn() *zk.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// ensurePath creates every component of path that does not already
// exist, walking the namespace one component at a time.
func (s *Store) ensurePath(p string) error {
	if p == "" || p == "/" {
		return nil
	}
	parent := path.Dir(p)
	if parent != "/" {
		if err := s.ensurePath(parent); err != nil {
			return err
		}
	}
	return s.createIfNotExistsWithRetry(p, false, 0)
}

func (s *Store) createIfNotExistsWithRetry(zkPath string, ephemeral bool, attempt int) error {
	conn := s.getConn()
	exists, _, err := conn.Exists(zkPath)
	if err == nil && !exists {
		flags := int32(0)
		if ephemeral {
			flags = zk.FlagEphemeral
		}
		_, err = conn.Create(zkPath, nil, flags, zk.WorldACL(zk.PermAll))
		if err == zk.ErrNodeExists {
			err = nil
		}
	}
	if err == nil {
		return nil
	}
	if attempt >= maxRetries {
		return coordinatorerr.UnavailableWrap("zk create "+zkPath, err)
	}
	log.WithError(err).Warnf("consensus: retrying create of %s (attempt %d)", zkPath, attempt)
	if rerr := s.connect(); rerr != nil {
		return rerr
	}
	return s.createIfNotExistsWithRetry(zkPath, ephemeral, attempt+1)
}

func (s *Store) key2path(key string) string {
	return path.Join(dataPath, key)
}

// Read performs a linearizable read: it calls Sync on the key's own znode
// path before Get, so the result reflects every write acknowledged before this
// call began.
func (s *Store) Read(key string) ([]byte, error) {
	return s.readWithRetry(key, true, 0)
}

// DirtyRead performs a local-replica read that may be stale, for hot paths
// that tolerate staleness (PULL, status endpoints).
func (s *Store) DirtyRead(key string) ([]byte, error) {
	return s.readWithRetry(key, false, 0)
}

func (s *Store) readWithRetry(key string, linearizable bool, attempt int) ([]byte, error) {
	conn := s.getConn()
	zkPath := s.key2path(key)
	if linearizable {
		if _, err := conn.Sync(zkPath); err != nil && err != zk.ErrNoNode {
			if attempt >= maxRetries {
				return nil, coordinatorerr.UnavailableWrap("zk sync "+key, err)
			}
			if rerr := s.connect(); rerr != nil {
				return nil, rerr
			}
			return s.readWithRetry(key, linearizable, attempt+1)
		}
	}
	data, _, err := conn.Get(zkPath)
	if err == zk.ErrNoNode {
		return nil, coordinatorerr.NotFound(key)
	}
	if err != nil {
		if attempt >= maxRetries {
			return nil, coordinatorerr.UnavailableWrap("zk get "+key, err)
		}
		log.WithError(err).Warnf("consensus: retrying read of %s (attempt %d)", key, attempt)
		if rerr := s.connect(); rerr != nil {
			return nil, rerr
		}
		return s.readWithRetry(key, linearizable, attempt+1)
	}
	return data, nil
}

// Write creates or updates key with value, retrying on transient failure.
func (s *Store) Write(key string, value []byte) error {
	return s.writeWithRetry(key, value, 0)
}

func (s *Store) writeWithRetry(key string, value []byte, attempt int) error {
	conn := s.getConn()
	zkPath := s.key2path(key)
	_, stat, err := conn.Get(zkPath)
	if err == zk.ErrNoNode {
		_, err = conn.Create(zkPath, value, 0, zk.WorldACL(zk.PermAll))
	} else if err == nil {
		_, err = conn.Set(zkPath, value, stat.Version)
	}
	if err == nil {
		return nil
	}
	if attempt >= maxRetries {
		return coordinatorerr.UnavailableWrap("zk write "+key, err)
	}
	log.WithError(err).Warnf("consensus: retrying write of %s (attempt %d)", key, attempt)
	if rerr := s.connect(); rerr != nil {
		return rerr
	}
	return s.writeWithRetry(key, value, attempt+1)
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.deleteWithRetry(key, 0)
}

func (s *Store) deleteWithRetry(key string, attempt int) error {
	conn := s.getConn()
	zkPath := s.key2path(key)
	err := conn.Delete(zkPath, -1)
	if err == nil || err == zk.ErrNoNode {
		return nil
	}
	if attempt >= maxRetries {
		return coordinatorerr.UnavailableWrap("zk delete "+key, err)
	}
	log.WithError(err).Warnf("consensus: retrying delete of %s (attempt %d)", key, attempt)
	if rerr := s.connect(); rerr != nil {
		return rerr
	}
	return s.deleteWithRetry(key, attempt+1)
}

// Close releases the underlying ZooKeeper session.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

