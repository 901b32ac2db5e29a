package embedder

import "context"

// embedInBatches splits texts into batches of at most size inputs per API
// call and concatenates the results in input order. A single document can
// produce hundreds of chunks, which overruns backend per-request input
// limits if sent in one call.
func embedInBatches(ctx context.Context, texts []string, size int, call func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) <= size {
		return call(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := call(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
