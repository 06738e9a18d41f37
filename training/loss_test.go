package training

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-segkit/tensor"
)

func TestDiceScoreIdenticalOnes(t *testing.T) {
	for _, shape := range [][]int{{1}, {4, 4}, {2, 1, 8, 8}} {
		ones, _ := tensor.Ones(shape, tensor.Float32)
		score, err := DiceScore(ones, ones)
		if err != nil {
			t.Fatalf("DiceScore failed: %v", err)
		}
		if math.Abs(score+1) > DiceEpsilon {
			t.Errorf("DiceScore(ones%v, ones) = %g, expected -1", shape, score)
		}
	}
}

func TestDiceScore(t *testing.T) {
	pred, _ := tensor.FromFloat32([]int{2, 2}, []float32{1, 1, 0, 0})
	target, _ := tensor.FromFloat32([]int{4}, []float32{1, 0, 0, 0})

	// intersection 1, union 3
	expected := -(2 + DiceEpsilon) / (3 + DiceEpsilon)
	score, err := DiceScore(pred, target)
	if err != nil {
		t.Fatalf("DiceScore failed: %v", err)
	}
	if math.Abs(score-expected) > 1e-12 {
		t.Errorf("DiceScore = %g, expected %g", score, expected)
	}

	// empty prediction and target: eps/eps
	zeros, _ := tensor.Zeros([]int{3}, tensor.Float32)
	if score, _ := DiceScore(zeros, zeros); score != -1 {
		t.Errorf("DiceScore of empty masks = %g, expected -1", score)
	}

	// disjoint masks approach 0
	a, _ := tensor.FromFloat32([]int{2}, []float32{1, 0})
	b, _ := tensor.FromUint8([]int{2}, []uint8{0, 1})
	if score, _ := DiceScore(a, b); score < -1e-4 || score >= 0 {
		t.Errorf("disjoint DiceScore = %g, expected about -5e-5", score)
	}

	short, _ := tensor.Zeros([]int{3}, tensor.Float32)
	if _, err := DiceScore(pred, short); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for size mismatch, got %v", err)
	}
}

func TestDiceLossGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pred, _ := tensor.Random([]int{6}, rng)
	target, _ := tensor.FromFloat32([]int{6}, []float32{1, 0, 1, 1, 0, 0})

	var loss DiceLoss
	grad, err := loss.Backward(pred, target)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// central differences
	p := pred.Data.([]float32)
	const h = 1e-3
	for i := range p {
		orig := p[i]
		p[i] = orig + h
		up, _ := DiceScore(pred, target)
		p[i] = orig - h
		down, _ := DiceScore(pred, target)
		p[i] = orig

		numeric := (up - down) / (2 * h)
		analytic := float64(grad.Data.([]float32)[i])
		if math.Abs(numeric-analytic) > 1e-3 {
			t.Errorf("grad[%d] = %g, numeric %g", i, analytic, numeric)
		}
	}

	out, err := loss.Forward(pred, target)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if out.NumElems != 1 {
		t.Errorf("Forward should return a scalar, got %v", out.Shape)
	}
}

func TestConfusionLossPrefersUniform(t *testing.T) {
	uniform, _ := tensor.FromFloat32([]int{1, 2}, []float32{0.5, 0.5})
	confident, _ := tensor.FromFloat32([]int{1, 2}, []float32{0.99, 0.01})

	var loss ConfusionLoss
	u, err := loss.Forward(uniform, nil)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	c, err := loss.Forward(confident, nil)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	uv, _ := u.Item()
	cv, _ := c.Item()
	if math.Abs(uv-math.Log(2)) > 1e-6 {
		t.Errorf("uniform loss = %g, expected ln 2", uv)
	}
	expected := -(math.Log(0.99) + math.Log(0.01)) / 2
	if math.Abs(cv-expected) > 1e-5 {
		t.Errorf("confident loss = %g, expected %g", cv, expected)
	}
	// the log-likelihood term (-loss) is larger, i.e. less negative, for the
	// uniform input, so minimizing the loss pushes towards uniform outputs
	if !(-uv > -cv) {
		t.Errorf("uniform input should score better: uniform %g, confident %g", uv, cv)
	}
}

func TestConfusionLossSumsSamples(t *testing.T) {
	x, _ := tensor.FromFloat32([]int{2, 2}, []float32{0.5, 0.5, 0.5, 0.5})
	target, _ := tensor.FromUint8([]int{2}, []uint8{0, 1})

	out, err := ConfusionLoss{Task: 1}.Forward(x, target)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	v, _ := out.Item()
	if math.Abs(v-2*math.Log(2)) > 1e-6 {
		t.Errorf("loss = %g, expected 2 ln 2", v)
	}

	grad, err := ConfusionLoss{}.Backward(x, nil)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	for i, g := range grad.Data.([]float32) {
		if math.Abs(float64(g)+1) > 1e-6 {
			t.Errorf("grad[%d] = %g, expected -1", i, g)
		}
	}

	flat, _ := tensor.Ones([]int{4}, tensor.Float32)
	if _, err := (ConfusionLoss{}).Forward(flat, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for 1-D input, got %v", err)
	}
}

func TestCrossEntropyLoss(t *testing.T) {
	logits, _ := tensor.FromFloat32([]int{2, 3}, []float32{
		2, 1, 0.1,
		0.5, 2.5, 0.3,
	})
	target, _ := tensor.NewTensor([]int{2}, tensor.Int32, []int32{0, 1})

	ce := NewCrossEntropyLoss("mean")
	out, err := ce.Forward(logits, target)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	v, _ := out.Item()
	if v <= 0 || v > 1 {
		t.Errorf("loss = %g, expected a small positive value", v)
	}

	grad, err := ce.Backward(logits, target)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// each row of softmax - onehot sums to zero
	g := grad.Data.([]float32)
	for row := 0; row < 2; row++ {
		sum := g[row*3] + g[row*3+1] + g[row*3+2]
		if math.Abs(float64(sum)) > 1e-6 {
			t.Errorf("row %d gradient sums to %g", row, sum)
		}
	}

	bad, _ := tensor.FromUint8([]int{2}, []uint8{0, 3})
	if _, err := ce.Forward(logits, bad); err == nil {
		t.Error("expected out of range class error")
	}
}
