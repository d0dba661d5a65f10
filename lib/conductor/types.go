// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"slices"
	"strings"

	"github.com/bureau-foundation/hcops/lib/holohash"
)

// HoloHash is the hash type used throughout the control plane.
type HoloHash = holohash.Hash

// CellID is a DNA hash paired with an agent key.
type CellID = holohash.CellID

// AppStatusFilter narrows ListApps. Empty lists every app.
type AppStatusFilter string

const (
	AppStatusAny      AppStatusFilter = ""
	AppStatusEnabled  AppStatusFilter = "enabled"
	AppStatusDisabled AppStatusFilter = "disabled"
)

// Cell info variants.
const (
	CellProvisioned = "provisioned"
	CellCloned      = "cloned"
	CellStem        = "stem"
)

// CellInfo describes one cell of an installed app. Stem cells have no
// CellID.
type CellInfo struct {
	Type    string  `json:"type"`
	CellID  *CellID `json:"cell_id,omitempty"`
	Name    string  `json:"name,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
}

// AppInfo is an installed app as reported by list_apps.
type AppInfo struct {
	InstalledAppID string                `json:"installed_app_id"`
	Status         string                `json:"status"`
	AgentPubKey    HoloHash              `json:"agent_pub_key"`
	CellInfo       map[string][]CellInfo `json:"cell_info"`
	InstalledAt    int64                 `json:"installed_at,omitempty"`
}

// ProvisionedCells returns the app's provisioned cells ordered by role
// name.
func (a AppInfo) ProvisionedCells() []RoleCell {
	roles := make([]string, 0, len(a.CellInfo))
	for role := range a.CellInfo {
		roles = append(roles, role)
	}
	slices.Sort(roles)

	var cells []RoleCell
	for _, role := range roles {
		for _, info := range a.CellInfo[role] {
			if info.Type == CellProvisioned && info.CellID != nil {
				cells = append(cells, RoleCell{Role: role, CellID: *info.CellID})
			}
		}
	}
	return cells
}

// RoleCell is a provisioned cell with the role it fills.
type RoleCell struct {
	Role   string `json:"role"`
	CellID CellID `json:"cell_id"`
}

// AllowAnyOrigin is the allowed-origins value that accepts every origin.
const AllowAnyOrigin = "*"

// AppInterfaceInfo describes an attached app interface.
type AppInterfaceInfo struct {
	Port uint16 `json:"port"`
	// AllowedOrigins is "*" or a comma-separated origin list.
	AllowedOrigins string `json:"allowed_origins"`
	// InstalledAppID restricts the interface to one app when set.
	InstalledAppID *string `json:"installed_app_id,omitempty"`
}

// Allows reports whether origin may connect.
func (i AppInterfaceInfo) Allows(origin string) bool {
	if i.AllowedOrigins == AllowAnyOrigin {
		return true
	}
	for allowed := range strings.SplitSeq(i.AllowedOrigins, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

// Serves reports whether the interface may be used for appID.
func (i AppInterfaceInfo) Serves(appID string) bool {
	return i.InstalledAppID == nil || *i.InstalledAppID == appID
}

// AppAuthToken is an issued app authentication token.
type AppAuthToken struct {
	Token     []byte `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	SingleUse bool   `json:"single_use"`
}

// AppBundleSource locates the bundle for install_app. The conductor
// reads the path itself.
type AppBundleSource struct {
	Path string `json:"path"`
}

// InstallAppPayload is the install_app payload.
type InstallAppPayload struct {
	Source         AppBundleSource `json:"source"`
	InstalledAppID string          `json:"installed_app_id,omitempty"`
	NetworkSeed    string          `json:"network_seed,omitempty"`
	AgentKey       *HoloHash       `json:"agent_key,omitempty"`
}

// Arc is a DHT storage arc: the inclusive location range [Start, End].
// A nil *Arc means the empty arc.
type Arc struct {
	_     struct{} `cbor:",toarray"`
	Start uint32   `json:"start"`
	End   uint32   `json:"end"`
}

// Contains reports whether location falls in the arc, which may wrap.
func (a Arc) Contains(location uint32) bool {
	if a.Start <= a.End {
		return location >= a.Start && location <= a.End
	}
	return location >= a.Start || location <= a.End
}

// LocalAgentMetrics is the per-agent part of a network metrics dump.
type LocalAgentMetrics struct {
	Agent      HoloHash `json:"agent"`
	StorageArc *Arc     `json:"storage_arc,omitempty"`
	TargetArc  *Arc     `json:"target_arc,omitempty"`
}

// NetworkMetrics is the conductor's network view of one DNA.
type NetworkMetrics struct {
	LocalAgents          []LocalAgentMetrics `json:"local_agents"`
	PendingFetchRequests uint64              `json:"pending_fetch_requests"`
	PeerCount            uint64              `json:"peer_count"`
	DhtSummary           map[string]any      `json:"dht_summary,omitempty"`
}

// ConnectionStats is one transport connection.
type ConnectionStats struct {
	PubKey           string `json:"pub_key"`
	SendMessageCount uint64 `json:"send_message_count"`
	SendBytes        uint64 `json:"send_bytes"`
	RecvMessageCount uint64 `json:"recv_message_count"`
	RecvBytes        uint64 `json:"recv_bytes"`
	OpenedAtSeconds  int64  `json:"opened_at_s"`
	IsWebRTC         bool   `json:"is_webrtc"`
}

// NetworkStats is the transport-level dump.
type NetworkStats struct {
	Backend     string            `json:"backend"`
	PeerURLs    []string          `json:"peer_urls"`
	Connections []ConnectionStats `json:"connections"`
}

// DnaStorageInfo is disk usage for one DNA.
type DnaStorageInfo struct {
	DnaHash                HoloHash `json:"dna_hash"`
	UsedBy                 []string `json:"used_by"`
	AuthoredDataSize       uint64   `json:"authored_data_size"`
	AuthoredDataSizeOnDisk uint64   `json:"authored_data_size_on_disk"`
	DhtDataSize            uint64   `json:"dht_data_size"`
	DhtDataSizeOnDisk      uint64   `json:"dht_data_size_on_disk"`
	CacheDataSize          uint64   `json:"cache_data_size"`
	CacheDataSizeOnDisk    uint64   `json:"cache_data_size_on_disk"`
}

// StorageInfo is the storage_info result.
type StorageInfo struct {
	Blobs []DnaStorageInfo `json:"blobs"`
}

// UsedBy keeps the blobs used by appID.
func (s StorageInfo) UsedBy(appID string) StorageInfo {
	var filtered StorageInfo
	for _, blob := range s.Blobs {
		if slices.Contains(blob.UsedBy, appID) {
			filtered.Blobs = append(filtered.Blobs, blob)
		}
	}
	return filtered
}

// ZomeCall is the call_zome payload.
type ZomeCall struct {
	CellID   CellID `json:"cell_id"`
	ZomeName string `json:"zome_name"`
	FnName   string `json:"fn_name"`
	Payload  []byte `json:"payload"`
}
