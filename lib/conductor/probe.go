// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"context"

	"github.com/bureau-foundation/hcops/lib/endpoint"
)

// AdminProber checks that an endpoint answers list_apps. It satisfies
// discover.Prober.
type AdminProber struct {
	Manager *Manager
}

// Probe opens a short-lived admin session and lists apps. Dial errors
// keep their kind, so a refused port reports ErrConnectionRefused.
func (p AdminProber) Probe(ctx context.Context, e endpoint.Endpoint) error {
	session, err := p.Manager.Open(ctx, e, TransportAdmin)
	if err != nil {
		return err
	}
	defer session.Close()

	_, err = NewAdminClient(session, 0).ListApps(ctx, AppStatusAny)
	return err
}
