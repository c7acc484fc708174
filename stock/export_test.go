package stock

// LockedKeys reports how many product ids the ledger's locker still tracks.
func LockedKeys(l *Ledger) int { return l.locks.Size() }
