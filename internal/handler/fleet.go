package handler

import (
	"net/http"
	"time"
)

// AboutMeResponse describes this instance's place in the fleet.
type AboutMeResponse struct {
	AmILeader    bool   `json:"amILeader"`
	MyInstanceID string `json:"myInstanceId"`
	PublicIP     string `json:"publicIp"`
	PrivateIP    string `json:"privateIp"`
}

// AboutMe answers from the cached leadership snapshot; it never queries the
// database.
func (h *Handler) AboutMe(w http.ResponseWriter, _ *http.Request) {
	snap := h.leader.Snapshot()
	h.JSON(w, http.StatusOK, AboutMeResponse{
		AmILeader:    snap.AmILeader,
		MyInstanceID: snap.SelfID,
		PublicIP:     snap.PublicIP,
		PrivateIP:    snap.PrivateIP,
	})
}

// InstanceResponse is one fleet member in the listing.
type InstanceResponse struct {
	InstanceID   string    `json:"instanceId"`
	RegisteredAt time.Time `json:"registeredAt"`
	IsLeader     bool      `json:"isLeader"`
	PublicIP     string    `json:"publicIp"`
	PrivateIP    string    `json:"privateIp"`
	Self         bool      `json:"self"`
}

// ListInstances returns every registered fleet member, newest first.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListMembers(r.Context())
	if err != nil {
		h.log.Error("Failed to list fleet members", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to list fleet members")
		return
	}

	self := h.leader.Snapshot().SelfID
	out := make([]InstanceResponse, 0, len(members))
	for _, m := range members {
		out = append(out, InstanceResponse{
			InstanceID:   m.InstanceID,
			RegisteredAt: m.RegisteredAt,
			IsLeader:     m.IsLeader,
			PublicIP:     m.PublicIP,
			PrivateIP:    m.PrivateIP,
			Self:         m.InstanceID == self,
		})
	}
	h.JSON(w, http.StatusOK, map[string]any{"instances": out})
}
