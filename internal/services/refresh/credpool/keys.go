package credpool

// keyspace names every redis key the pool touches for one backend
type keyspace struct{ ns string }

func (k keyspace) available(backend string) string { return k.ns + "available_credentials:" + backend }
func (k keyspace) blocked(backend string) string   { return k.ns + "blocked_credentials:" + backend }
func (k keyspace) secrets(backend string) string   { return k.ns + "credentials:" + backend }
func (k keyspace) status(backend string) string    { return k.ns + "credential_status:" + backend }
func (k keyspace) cooldown(backend string) string  { return k.ns + "credential_cooldown:" + backend }
func (k keyspace) leases(backend string) string    { return k.ns + "credential_leases:" + backend }
func (k keyspace) principals(backend string) string {
	return k.ns + "credential_principals:" + backend
}
