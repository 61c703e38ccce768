package inspection

import "context"

// Analyzer port (interface ke layanan AI)
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}
