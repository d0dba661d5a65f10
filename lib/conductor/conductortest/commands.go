// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductortest

import (
	"fmt"
	"slices"

	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/holohash"
)

func (f *Conductor) adminCommand(call Call) Reply {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch call.Type {
	case "list_apps":
		var payload struct {
			StatusFilter string `json:"status_filter"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		apps := []conductor.AppInfo{}
		for _, app := range f.apps {
			if payload.StatusFilter == "" || app.Status == payload.StatusFilter {
				apps = append(apps, app)
			}
		}
		return Result("apps_listed", apps)

	case "list_cell_ids":
		cells := []conductor.CellID{}
		for _, app := range f.apps {
			for _, cell := range app.ProvisionedCells() {
				cells = append(cells, cell.CellID)
			}
		}
		return Result("cell_ids_listed", cells)

	case "list_app_interfaces":
		infos := []conductor.AppInterfaceInfo{}
		for _, iface := range f.interfaces {
			infos = append(infos, iface.info)
		}
		return Result("app_interfaces_listed", infos)

	case "attach_app_interface":
		var payload struct {
			Port           uint16  `json:"port"`
			AllowedOrigins string  `json:"allowed_origins"`
			InstalledAppID *string `json:"installed_app_id"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		info := f.attachLocked(conductor.AppInterfaceInfo{
			AllowedOrigins: payload.AllowedOrigins,
			InstalledAppID: payload.InstalledAppID,
		})
		return Result("app_interface_attached", struct {
			Port uint16 `json:"port"`
		}{info.Port})

	case "issue_app_authentication_token":
		var payload struct {
			InstalledAppID string `json:"installed_app_id"`
			SingleUse      bool   `json:"single_use"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		if f.findLocked(payload.InstalledAppID) < 0 {
			return Fail("app_not_installed", payload.InstalledAppID)
		}
		token := randomToken()
		f.tokens[string(token)] = payload.InstalledAppID
		return Result("app_authentication_token_issued", conductor.AppAuthToken{Token: token, SingleUse: true})

	case "install_app":
		var payload conductor.InstallAppPayload
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		f.installs++
		appID := payload.InstalledAppID
		if appID == "" {
			appID = fmt.Sprintf("app-%d", f.installs)
		}
		if f.findLocked(appID) >= 0 {
			return Fail("app_already_installed", appID)
		}
		app := App(appID, 0x80+f.installs, "main")
		app.Status = "disabled"
		f.apps = append(f.apps, app)
		return Result("app_installed", app)

	case "enable_app":
		var payload struct {
			InstalledAppID string `json:"installed_app_id"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		index := f.findLocked(payload.InstalledAppID)
		if index < 0 {
			return Fail("app_not_installed", payload.InstalledAppID)
		}
		f.apps[index].Status = "enabled"
		return Result("app_enabled", struct {
			App conductor.AppInfo `json:"app"`
		}{f.apps[index]})

	case "uninstall_app":
		var payload struct {
			InstalledAppID string `json:"installed_app_id"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		index := f.findLocked(payload.InstalledAppID)
		if index < 0 {
			return Fail("app_not_installed", payload.InstalledAppID)
		}
		f.apps = slices.Delete(f.apps, index, index+1)
		return Result("app_uninstalled", nil)

	case "agent_info":
		var payload struct {
			DnaHashes []holohash.Hash `json:"dna_hashes"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		encoded := []string{}
		for _, entry := range f.agentInfos {
			if len(payload.DnaHashes) > 0 {
				info, err := conductor.ParseAgentInfo(entry)
				if err != nil || !slices.Contains(payload.DnaHashes, info.Dna) {
					continue
				}
			}
			encoded = append(encoded, entry)
		}
		return Result("agent_info", encoded)

	case "dump_network_metrics":
		var payload struct {
			DnaHash *holohash.Hash `json:"dna_hash"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		metrics := map[string]conductor.NetworkMetrics{}
		for dna, entry := range f.metrics {
			if payload.DnaHash == nil || payload.DnaHash.String() == dna {
				metrics[dna] = entry
			}
		}
		return Result("network_metrics_dumped", metrics)

	case "dump_network_stats":
		return Result("network_stats_dumped", f.stats)

	case "storage_info":
		return Result("storage_info", f.storage)

	case "dump_state":
		var payload struct {
			CellID conductor.CellID `json:"cell_id"`
		}
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		dump, ok := f.states[payload.CellID.String()]
		if !ok {
			return Fail("cell_missing", payload.CellID.String())
		}
		return Result("state_dumped", dump)
	}
	return Fail("unknown_command", call.Type)
}

func (f *Conductor) appCommand(call Call) Reply {
	f.mu.Lock()
	index := f.findLocked(call.AppID)
	var app *conductor.AppInfo
	if index >= 0 {
		found := f.apps[index]
		app = &found
	}
	zome := f.zome
	f.mu.Unlock()

	switch call.Type {
	case "app_info":
		return Result("app_info", app)
	case "call_zome":
		var payload conductor.ZomeCall
		if err := call.Decode(&payload); err != nil {
			return badPayload(call, err)
		}
		if zome == nil {
			return Fail("ribosome_error", "no zome handler")
		}
		output, err := zome(payload)
		if err != nil {
			return Fail("ribosome_error", err.Error())
		}
		return Result("zome_called", output)
	}
	return Fail("unknown_command", call.Type)
}

func (f *Conductor) findLocked(appID string) int {
	return slices.IndexFunc(f.apps, func(app conductor.AppInfo) bool { return app.InstalledAppID == appID })
}
