package storage

// DropConn closes the pinned connection the way database/sql does after the
// driver reports it broken.
func DropConn(g *Gateway) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn.Close()
}
