/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package identity

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"
)

// EnforceAction is invoked once per expired EnforceTimer by RunEnforceSweep.
// Callers wire this to the handler that forces the user off the nick (a
// server-initiated NICK to a guest name).
type EnforceAction func(EnforceTimer)

// RunEnforceSweep polls the index's enforce-timer set every interval until
// ctx is cancelled, invoking action for every timer that has expired. It
// runs on the caller's conc.WaitGroup (Server.Serve passes its own), so
// its panic (if any) surfaces rather than silently killing the sweep.
func RunEnforceSweep(ctx context.Context, wg *conc.WaitGroup, idx *Index, interval time.Duration, action EnforceAction) {
	wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, t := range idx.ExpiredTimers(now) {
					action(t)
				}
			}
		}
	})
}
