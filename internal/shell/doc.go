// Package shell owns the offline app-shell cache across its worker-style
// lifecycle. Install resolves the cache manifest, opens the version-tagged
// bucket and populates it all-or-nothing; the lifecycle never reports
// installed over a partial cache. Activate prunes every stale bucket carrying
// the shell prefix and hands the surviving bucket to the request interceptor.
// A failed install leaves the lifecycle redundant and the gateway serving
// network-only, which degrades offline support without affecting the host.
package shell
