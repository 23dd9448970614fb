package network

import (
	"fmt"
	"sort"
	"sync"
)

// OpenPortSet 开放端口集合，端口 -> 服务名，只增不减
type OpenPortSet struct {
	mu    sync.RWMutex
	ports map[int]string
}

func NewOpenPortSet() *OpenPortSet {
	return &OpenPortSet{ports: make(map[int]string)}
}

func (s *OpenPortSet) Add(port int, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ports[port]; ok {
		return
	}
	s.ports[port] = service
}

// Merge 合并另一个集合（并集）
func (s *OpenPortSet) Merge(other *OpenPortSet) {
	if other == nil || other == s {
		return
	}
	for port, service := range other.Snapshot() {
		s.Add(port, service)
	}
}

func (s *OpenPortSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ports)
}

func (s *OpenPortSet) Contains(port int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ports[port]
	return ok
}

func (s *OpenPortSet) Snapshot() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[int]string, len(s.ports))
	for port, service := range s.ports {
		cp[port] = service
	}
	return cp
}

// Ports 按端口号升序返回
func (s *OpenPortSet) Ports() []int {
	s.mu.RLock()
	ports := make([]int, 0, len(s.ports))
	for port := range s.ports {
		ports = append(ports, port)
	}
	s.mu.RUnlock()
	sort.Ints(ports)
	return ports
}

// Labels 返回 "端口:服务" 格式
func (s *OpenPortSet) Labels() []string {
	snapshot := s.Snapshot()
	ports := make([]int, 0, len(snapshot))
	for port := range snapshot {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	labels := make([]string, 0, len(ports))
	for _, port := range ports {
		labels = append(labels, fmt.Sprintf("%d:%s", port, snapshot[port]))
	}
	return labels
}
