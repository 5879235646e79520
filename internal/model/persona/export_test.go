package persona

func SubscriberCount(s *MemoryStore) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
