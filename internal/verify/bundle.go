package verify

import (
	"fmt"
	"os"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/verify"
)

// BundleVerifier checks sigstore (cosign) bundles produced by the
// release pipeline's keyless signing.
type BundleVerifier struct {
	// CertIssuer is the expected OIDC issuer of the signing identity.
	CertIssuer string
	// SANRegexp matches the expected signing identity (e.g. the release
	// workflow URL).
	SANRegexp string

	// trustedMaterial overrides the public-good trusted root in tests.
	trustedMaterial root.TrustedMaterial
}

// NewBundleVerifier creates a bundle verifier for the given signing
// identity.
func NewBundleVerifier(certIssuer, sanRegexp string) *BundleVerifier {
	return &BundleVerifier{
		CertIssuer: certIssuer,
		SANRegexp:  sanRegexp,
	}
}

// Verify checks the bundle's signature, certificate identity, and
// transparency-log inclusion over the artifact.
func (v *BundleVerifier) Verify(artifactPath, bundlePath string) error {
	b, err := bundle.LoadJSONFromPath(bundlePath)
	if err != nil {
		return fmt.Errorf("load bundle: %w", err)
	}

	material := v.trustedMaterial
	if material == nil {
		trustedRoot, err := root.FetchTrustedRoot()
		if err != nil {
			return fmt.Errorf("fetch trusted root: %w", err)
		}
		material = trustedRoot
	}

	verifier, err := verify.NewSignedEntityVerifier(material,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1),
	)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	identity, err := verify.NewShortCertificateIdentity(v.CertIssuer, "", "", v.SANRegexp)
	if err != nil {
		return fmt.Errorf("build certificate identity: %w", err)
	}

	artifact, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer artifact.Close()

	policy := verify.NewPolicy(
		verify.WithArtifact(artifact),
		verify.WithCertificateIdentity(identity),
	)

	if _, err := verifier.Verify(b, policy); err != nil {
		return fmt.Errorf("verify bundle: %w", err)
	}
	return nil
}
