package tfmodel

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/backbone"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/device"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/nn"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// Name TensorFlow SavedModel backbone 이름
const Name = "savedmodel"

var variableOps = map[string]bool{
	"VariableV2":  true,
	"VarHandleOp": true,
	"Variable":    true,
}

// Config SavedModel backbone 설정
type Config struct {
	Dir        string
	Tags       []string
	InputOp    string
	FeatureOp  string
	FeatureDim int
}

// Model SavedModel 의 특징 출력까지를 backbone 으로 사용. gradient 전파는 지원하지 않음
type Model struct {
	cfg     Config
	tfModel *tf.SavedModel
	input   tf.Output
	output  tf.Output
	params  []*nn.Parameter
}

// Load SavedModel 을 로드. 원래 출력 layer 는 graph 에 남지만 사용하지 않음
func Load(cfg Config) (backbone.Pretrained, error) {
	var (
		tfModel *tf.SavedModel
		err     error
	)

	if tfModel, err = tf.LoadSavedModel(cfg.Dir, cfg.Tags, nil); err != nil {
		return backbone.Pretrained{}, errors.Wrapf(err, "Fail to load saved model: %s", cfg.Dir)
	}

	in := tfModel.Graph.Operation(cfg.InputOp)
	if in == nil {
		tfModel.Session.Close()
		return backbone.Pretrained{}, errors.Errorf("No input operation: %s", cfg.InputOp)
	}
	out := tfModel.Graph.Operation(cfg.FeatureOp)
	if out == nil {
		tfModel.Session.Close()
		return backbone.Pretrained{}, errors.Errorf("No feature operation: %s", cfg.FeatureOp)
	}

	if cfg.FeatureDim <= 0 {
		if cfg.FeatureDim, err = lastDim(out.Output(0).Shape()); err != nil {
			tfModel.Session.Close()
			return backbone.Pretrained{}, err
		}
	}

	m := &Model{
		cfg:     cfg,
		tfModel: tfModel,
		input:   in.Output(0),
		output:  out.Output(0),
	}

	for _, op := range tfModel.Graph.Operations() {
		if variableOps[op.Type()] {
			m.params = append(m.params, &nn.Parameter{
				Name:         op.Name(),
				RequiresGrad: true,
			})
		}
	}

	return backbone.Pretrained{Backbone: m}, nil
}

func lastDim(s tf.Shape) (int, error) {
	dims, err := s.ToSlice()
	if err != nil || len(dims) == 0 || dims[len(dims)-1] <= 0 {
		return 0, errors.Errorf("Cannot infer feature dimension from %v", s)
	}
	return int(dims[len(dims)-1]), nil
}

// Name Backbone 구현
func (m *Model) Name() string {
	return Name
}

// FeatureDim Backbone 구현
func (m *Model) FeatureDim() int {
	return m.cfg.FeatureDim
}

// NamedParameters graph 의 variable. 값은 session 안에 있음
func (m *Model) NamedParameters() []*nn.Parameter {
	return m.params
}

// Devices session 이 사용할 수 있는 장치
func (m *Model) Devices() ([]device.Type, error) {
	devices, err := m.tfModel.Session.ListDevices()
	if err != nil {
		return nil, err
	}

	var out []device.Type
	for _, d := range devices {
		switch d.Type {
		case "GPU":
			out = append(out, device.GPU)
		case "CPU":
			out = append(out, device.CPU)
		}
	}

	return out, nil
}

// Forward [B, C, H, W] 를 NHWC 로 바꿔 feature operation 까지 실행
func (m *Model) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var (
		input   *tf.Tensor
		results []*tf.Tensor
		err     error
	)

	if len(x.Shape) != 4 {
		return nil, errors.Errorf("SavedModel backbone expects [B, C, H, W], got %v", x.Shape)
	}

	b, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if input, err = tf.ReadTensor(tf.Float, []int64{int64(b), int64(h), int64(w), int64(c)}, bytes.NewReader(toNHWC(x))); err != nil {
		return nil, err
	}

	if results, err = m.tfModel.Session.Run(
		map[tf.Output]*tf.Tensor{
			m.input: input,
		},
		[]tf.Output{
			m.output,
		},
		nil,
	); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := results[0].WriteContentsTo(&buf); err != nil {
		return nil, err
	}

	return fromBytes(buf.Bytes(), b, m.cfg.FeatureDim)
}

// Close session 해제
func (m *Model) Close() error {
	return m.tfModel.Session.Close()
}

func toNHWC(x *tensor.Tensor) []byte {
	b, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	buf := make([]byte, 4*len(x.Data))

	i := 0
	for n := 0; n < b; n++ {
		img := x.Row(n)
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				for ch := 0; ch < c; ch++ {
					v := img[ch*h*w+y*w+xx]
					binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
					i++
				}
			}
		}
	}

	return buf
}

func fromBytes(raw []byte, batch, dim int) (*tensor.Tensor, error) {
	if len(raw) != 4*batch*dim {
		return nil, errors.Errorf("Feature output has %d bytes, want [%d, %d]", len(raw), batch, dim)
	}

	out := tensor.New(batch, dim)
	for i := range out.Data {
		out.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}

	return out, nil
}
