// Package classifier wraps the pre-trained fundus image model. A Classifier
// is built once at startup, is immutable afterwards and is shared by every
// request.
package classifier

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/visionai/drscreen/internal/platform/apperr"
)

// DefaultInputSize is the square input edge the model was trained on.
const DefaultInputSize = 224

// Prediction is the outcome for one image.
type Prediction struct {
	Index int
	Label string
}

// PairResult holds per-eye predictions and the combined label, defined as
// the label of the higher (more severe) of the two class indices.
type PairResult struct {
	Left     Prediction
	Right    Prediction
	Combined Prediction
}

// Classifier runs images through a Model and maps outputs to labels.
type Classifier struct {
	model     Model
	labels    LabelMap
	inputSize int
	cause     error
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithInputSize overrides DefaultInputSize.
func WithInputSize(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.inputSize = n
		}
	}
}

// New builds a ready Classifier.
func New(model Model, labels LabelMap, opts ...Option) (*Classifier, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: no model", apperr.ErrClassifierUnavailable)
	}
	if labels.Len() == 0 {
		return nil, fmt.Errorf("%w: empty label map", apperr.ErrClassifierUnavailable)
	}
	c := &Classifier{model: model, labels: labels, inputSize: DefaultInputSize}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Unavailable returns a Classifier that rejects every call. It stands in
// when the model or its label map failed to load at startup.
func Unavailable(cause error) *Classifier {
	return &Classifier{cause: cause}
}

// Ready returns nil when the classifier can serve requests.
func (c *Classifier) Ready() error {
	if c == nil || c.model == nil {
		var cause error
		if c != nil {
			cause = c.cause
		}
		if cause != nil {
			return fmt.Errorf("%w: %v", apperr.ErrClassifierUnavailable, cause)
		}
		return apperr.ErrClassifierUnavailable
	}
	return nil
}

// Labels returns the label map.
func (c *Classifier) Labels() LabelMap { return c.labels }

// Classify predicts the label of a single image.
func (c *Classifier) Classify(ctx context.Context, raw []byte) (Prediction, error) {
	if err := c.Ready(); err != nil {
		return Prediction{}, err
	}
	input, err := Preprocess(raw, c.inputSize)
	if err != nil {
		return Prediction{}, err
	}
	scores, err := c.model.Predict(ctx, input)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", apperr.ErrClassifierUnavailable, err)
	}
	if len(scores) != c.labels.Len() {
		return Prediction{}, fmt.Errorf("%w: model returned %d scores for %d labels",
			apperr.ErrClassifierUnavailable, len(scores), c.labels.Len())
	}
	idx := argmax(scores)
	label, _ := c.labels.Label(idx)
	return Prediction{Index: idx, Label: label}, nil
}

// ClassifyPair classifies both eyes. Either both predictions are returned or
// an error is; a failure on one side cancels the other.
func (c *Classifier) ClassifyPair(ctx context.Context, left, right []byte) (PairResult, error) {
	if err := c.Ready(); err != nil {
		return PairResult{}, err
	}

	var res PairResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := c.Classify(gctx, left)
		if err != nil {
			return fmt.Errorf("left eye: %w", err)
		}
		res.Left = p
		return nil
	})
	g.Go(func() error {
		p, err := c.Classify(gctx, right)
		if err != nil {
			return fmt.Errorf("right eye: %w", err)
		}
		res.Right = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return PairResult{}, err
	}

	res.Combined = c.combine(res.Left, res.Right)
	return res, nil
}

func (c *Classifier) combine(left, right Prediction) Prediction {
	idx := left.Index
	if right.Index > idx {
		idx = right.Index
	}
	label, _ := c.labels.Label(idx)
	return Prediction{Index: idx, Label: label}
}

func argmax(scores []float32) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}
