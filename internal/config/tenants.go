package config

// Agent is a rendering identity (avatar + voice) available to a tenant.
type Agent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AvatarID string `json:"avatarId"`
	VoiceID  string `json:"voiceId"`
	Language string `json:"language"`
	Active   bool   `json:"active"`
}

// Tenant is a brand with its own platform list, daily quota, distributor
// profile and agent roster. Webhook routing and quota counters are keyed by
// Tenant.ID.
type Tenant struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	LateProfileID string   `json:"lateProfileId"`
	Platforms     []string `json:"platforms"`
	MaxPerDay     int      `json:"maxPerDay"`
	Topics        []string `json:"topics"`
	Agents        []Agent  `json:"agents"`
}

// TenantRegistry resolves tenant configuration by id.
type TenantRegistry struct {
	tenants map[string]*Tenant
	order   []string
}

// NewTenantRegistry builds a registry from the given tenants, preserving order
// for deterministic scheduler iteration.
func NewTenantRegistry(tenants []Tenant) *TenantRegistry {
	r := &TenantRegistry{tenants: make(map[string]*Tenant, len(tenants))}
	for i := range tenants {
		t := tenants[i]
		r.tenants[t.ID] = &t
		r.order = append(r.order, t.ID)
	}
	return r
}

// Get returns the tenant config for id, or nil if unknown.
func (r *TenantRegistry) Get(id string) *Tenant {
	return r.tenants[id]
}

// All returns tenants in registration order.
func (r *TenantRegistry) All() []*Tenant {
	out := make([]*Tenant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tenants[id])
	}
	return out
}

// DefaultTenants is the compiled-in tenant roster. Deployments override this
// via the yaml config file; the shape here doubles as documentation.
func DefaultTenants() []Tenant {
	return []Tenant{
		{
			ID:            "ownerfi",
			DisplayName:   "OwnerFi",
			LateProfileID: "ownerfi-profile",
			Platforms:     []string{"tiktok", "instagram", "youtube"},
			MaxPerDay:     2,
			Topics: []string{
				"owner financing basics",
				"rent to own vs owner finance",
				"buying a home without a bank",
			},
			Agents: []Agent{
				{ID: "ownerfi-1", Name: "Jordan", AvatarID: "avt_jordan_01", VoiceID: "voi_en_01", Language: "en", Active: true},
				{ID: "ownerfi-2", Name: "Maya", AvatarID: "avt_maya_02", VoiceID: "voi_en_02", Language: "en", Active: true},
			},
		},
		{
			ID:            "carz",
			DisplayName:   "Carz",
			LateProfileID: "carz-profile",
			Platforms:     []string{"tiktok", "instagram", "youtube", "facebook"},
			MaxPerDay:     3,
			Topics: []string{
				"used car buying mistakes",
				"negotiating at the dealership",
				"car maintenance that saves money",
			},
			Agents: []Agent{
				{ID: "carz-1", Name: "Alex", AvatarID: "avt_alex_01", VoiceID: "voi_en_03", Language: "en", Active: true},
				{ID: "carz-2", Name: "Sam", AvatarID: "avt_sam_02", VoiceID: "voi_en_04", Language: "en", Active: true},
				{ID: "carz-3", Name: "Lucia", AvatarID: "avt_lucia_03", VoiceID: "voi_es_01", Language: "es", Active: true},
			},
		},
		{
			ID:            "podcast",
			DisplayName:   "Podcast Clips",
			LateProfileID: "podcast-profile",
			Platforms:     []string{"youtube", "instagram"},
			MaxPerDay:     1,
			Topics: []string{
				"weekly episode highlights",
			},
			Agents: []Agent{
				{ID: "podcast-1", Name: "Riley", AvatarID: "avt_riley_01", VoiceID: "voi_en_05", Language: "en", Active: true},
			},
		},
	}
}
