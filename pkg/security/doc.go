/*
Package security provides AES-256-GCM encryption for the two kinds of
secrets the control plane must never persist in plaintext: cloud backend
credentials (types.Backend.EncryptedCredential) and source repo credentials
(types.RepoCreds.EncryptedCredential).

SecretsManager derives its key either from a raw 32-byte key or from a
password (SHA-256-hashed). DeriveKeyFromClusterID lets cmd/orbiter derive
that key once at startup from ORBITER_CLUSTER_ID and build one
SecretsManager shared by every caller, rather than threading a password
through the process.

mTLS between control-plane and worker nodes (a Certificate Authority)
has no equivalent here: orbiter has no worker nodes to authenticate — it
only calls outbound cloud provider APIs, which authenticate with the
credentials this package protects, over the provider SDKs' own TLS.
*/
package security
