package compendium

import "compendium/internal/hash"

// FakeSealer is a no-op Sealer for tests: it fabricates a BundleRef keyed
// off dir and the kept paths in the order given, without touching the
// filesystem.
type FakeSealer struct {
	Algorithm hash.Algorithm
}

func (s *FakeSealer) Seal(dir string, keepRelPaths []string) (BundleRef, error) {
	alg := s.Algorithm
	if alg == "" {
		alg = hash.SHA256
	}
	joined := dir
	for _, p := range keepRelPaths {
		joined += "\x00" + p
	}
	d, err := hash.HashBytes(alg, []byte(joined))
	if err != nil {
		return BundleRef{}, err
	}
	return BundleRef{Path: dir + "/bundle.sealed", Digest: d, Algorithm: alg}, nil
}
