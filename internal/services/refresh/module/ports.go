package module

import "curator/internal/services/refresh/domain"

// Ports defines refresh module ports exposed via the registry
type Ports struct {
	Worker   domain.WorkerPort
	Derived  domain.DerivedPort
	Sweep    domain.SweepPort
	Signals  domain.SignalsPort
	Admin    domain.AdminPort
	Migrate  domain.MigratePort
	Seeder   domain.SeederPort
	Discover domain.DiscoverPort
}
