package devbackend

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/vmcp-gateway/apiclient"
)

// vmcpRepo keeps each user's vMCP configurations.
type vmcpRepo struct {
	mu     sync.RWMutex
	byUser map[string][]apiclient.VMCP
}

func newVMCPRepo() *vmcpRepo {
	return &vmcpRepo{byUser: make(map[string][]apiclient.VMCP)}
}

func (r *vmcpRepo) add(userID string, v apiclient.VMCP, now time.Time) apiclient.VMCP {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.UserID = userID
	stamp := now.UTC().Format(time.RFC3339)
	if v.CreatedAt == "" {
		v.CreatedAt = stamp
	}
	v.UpdatedAt = stamp

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = append(r.byUser[userID], v)
	return v
}

func (r *vmcpRepo) list(userID string) []apiclient.VMCP {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := append([]apiclient.VMCP{}, r.byUser[userID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// starterVMCPs are given to every new account so the console has something to show.
func starterVMCPs() []apiclient.VMCP {
	return []apiclient.VMCP{
		{Name: "default", Description: "Starter vMCP with no servers attached"},
		{Name: "everything", Description: "Reference servers bundled together", Servers: []string{"everything", "filesystem"}},
	}
}
