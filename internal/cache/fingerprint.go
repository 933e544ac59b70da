// Package cache computes cache fingerprints and wraps an mlmd.Store to look
// up and publish cached node outputs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/pipelineir"
)

// Fingerprint is the deterministic cache-context identity for one node
// execution attempt: node identity, pipeline info, executor spec, input
// artifact identities, output artifact descriptors, and resolved exec
// properties. Equal fingerprints mean reuse-eligible.
type Fingerprint string

// fieldWriter.field length-prefixes each field before hashing, the same technique
// the teacher's task-definition hash uses to keep the digest immune to
// field-boundary ambiguity.
type fieldWriter struct {
	h interface{ Write([]byte) (int, error) }
}

func (w fieldWriter) field(data []byte) {
	length := uint64(len(data))
	lengthBytes := []byte{
		byte(length >> 56), byte(length >> 48), byte(length >> 40), byte(length >> 32),
		byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
	}
	w.h.Write(lengthBytes)
	w.h.Write(data)
}

// Compute derives a Fingerprint from a node's cache-relevant identity.
func Compute(
	node *pipelineir.Node,
	info mlmd.PipelineInfo,
	executorSpec pipelineir.PackedConfig,
	inputs []mlmd.ArtifactRef,
	outputs []mlmd.ArtifactRef,
	execProperties map[string]string,
) Fingerprint {
	h := sha256.New()
	w := fieldWriter{h: h}

	w.field([]byte(node.NodeID))
	w.field([]byte(node.ExecutionType))
	w.field([]byte(info.PipelineName))
	w.field([]byte(executorSpec.TypeURL))
	w.field(executorSpec.Value)

	sortedInputs := sortedRefs(inputs)
	w.field([]byte{byte(len(sortedInputs))})
	for _, ref := range sortedInputs {
		w.field([]byte(ref.Key))
		w.field([]byte(ref.Artifact.ID))
		w.field([]byte(ref.Artifact.URI))
	}

	sortedOutputs := sortedRefs(outputs)
	w.field([]byte{byte(len(sortedOutputs))})
	for _, ref := range sortedOutputs {
		w.field([]byte(ref.Key))
		w.field([]byte(ref.Artifact.URI))
	}

	keys := make([]string, 0, len(execProperties))
	for k := range execProperties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.field([]byte{byte(len(keys))})
	for _, k := range keys {
		w.field([]byte(k))
		w.field([]byte(execProperties[k]))
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func sortedRefs(refs []mlmd.ArtifactRef) []mlmd.ArtifactRef {
	out := make([]mlmd.ArtifactRef, len(refs))
	copy(out, refs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Artifact.ID < out[j].Artifact.ID
	})
	return out
}
