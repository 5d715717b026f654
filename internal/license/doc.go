// Package license implements the client-side license lifecycle: machine
// activation against the remote authority, durable caching of the resulting
// entitlement, and the feature-gating decisions consumed by every
// license-gated CLI operation.
//
// The manager moves through three states per installation:
//
//	unlicensed      - no usable cache; every gated operation is denied
//	cached_valid    - an entitlement with active=true is cached durably
//	cached_invalid  - the authority conclusively reported the key invalid
//
// The central trust policy: inconclusive outcomes (network failures,
// authority 5xx, client credential problems) never downgrade a cached
// entitlement. Only a conclusive answer from the authority moves the state,
// and cached_invalid is cleared only by explicit re-activation.
package license
