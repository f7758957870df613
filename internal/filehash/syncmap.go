package filehash

import "sync"

// syncMap is a minimal typed wrapper around sync.Map so Cache doesn't
// sprinkle interface{} assertions at every call site.
type syncMap struct {
	m sync.Map
}

func (s *syncMap) Load(key string) (string, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (s *syncMap) Store(key, value string) {
	s.m.Store(key, value)
}
