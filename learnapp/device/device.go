package device

import (
	stderrors "errors"
	"strings"

	"github.com/pkg/errors"
)

// Type 연산 장치
type Type int

const (
	CPU Type = iota
	GPU
)

func (t Type) String() string {
	switch t {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// ErrUnavailable 요청한 장치를 사용할 수 없음
var ErrUnavailable = stderrors.New("device unavailable")

// Prober 사용 가능한 장치를 보고
type Prober interface {
	Devices() ([]Type, error)
}

// Parse 설정 문자열을 장치로 변환
func Parse(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu", "":
		return CPU, nil
	case "gpu", "cuda":
		return GPU, nil
	default:
		return CPU, errors.Errorf("Unknown device: %s", s)
	}
}

// Check 요청한 장치가 없으면 CPU 로 대체하지 않고 실패
func Check(requested Type, p Prober) error {
	if requested == CPU {
		return nil
	}

	devices, err := p.Devices()
	if err != nil {
		return errors.Wrap(err, "Fail to list devices")
	}

	for _, d := range devices {
		if d == requested {
			return nil
		}
	}

	return errors.Wrapf(ErrUnavailable, "%s requested", requested)
}
