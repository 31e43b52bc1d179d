// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package domain

// RepositorySnapshot is the observable state of an instance's working
// copy after the last completed repository operation.
type RepositorySnapshot struct {
	OriginURL          string `cbor:"1,keyasint" json:"origin_url"`
	HeadSHA            string `cbor:"2,keyasint" json:"head_sha"`
	ReferenceFriendly  string `cbor:"3,keyasint,omitempty" json:"reference_friendly,omitempty"`
	IsTrackingBranch   bool   `cbor:"4,keyasint" json:"is_tracking_branch"`
	ActiveTestMerges   []TestMerge `cbor:"5,keyasint,omitempty" json:"active_test_merges,omitempty"`
}

// TestMerge records one provisional merge of an external revision
// (typically a pull request) onto the working copy's head.
type TestMerge struct {
	Number       int    `cbor:"1,keyasint" json:"number"`
	TargetSHA    string `cbor:"2,keyasint" json:"target_sha"`
	PreMergeSHA  string `cbor:"3,keyasint" json:"pre_merge_sha"`
	PreMergeRef  string `cbor:"4,keyasint" json:"pre_merge_ref"`
	MergedAsFastForward bool `cbor:"5,keyasint" json:"merged_as_fast_forward"`
}
