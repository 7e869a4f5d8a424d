package probe

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

const tasklistOutput = `
Image Name                     PID Session Name        Session#    Mem Usage
========================= ======== ================ =========== ============
System Idle Process              0 Services                   0          8 K
steam.exe                     4120 Console                    1    120,552 K
Among Us.exe                  9932 Console                    1    412,100 K
`

func TestProcessList_Running(t *testing.T) {
	tests := []struct {
		name   string
		image  string
		output string
		want   bool
	}{
		{"found", "Among Us.exe", tasklistOutput, true},
		{"case insensitive", "among us.EXE", tasklistOutput, true},
		{"absent", "Other.exe", tasklistOutput, false},
		{"disabled", "", tasklistOutput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.image)
			p.SetRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return []byte(tt.output), nil
			})
			got, err := p.Running(context.Background())
			if err != nil {
				t.Fatalf("Running: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Running() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessList_RunnerError(t *testing.T) {
	p := New("Among Us.exe")
	boom := errors.New("exec failed")
	p.SetRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, boom
	})

	running, err := p.Running(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected runner error, got %v", err)
	}
	if running {
		t.Fatal("expected running=false on error")
	}
}

func TestDefaultCommand(t *testing.T) {
	if got := DefaultCommand("windows"); !reflect.DeepEqual(got, []string{"tasklist"}) {
		t.Fatalf("unexpected windows command %v", got)
	}
	if got := DefaultCommand("linux"); got[0] != "ps" {
		t.Fatalf("unexpected linux command %v", got)
	}
}

func TestStaticAndFunc(t *testing.T) {
	if running, _ := Static(true).Running(context.Background()); !running {
		t.Fatal("Static(true) should report running")
	}
	f := Func(func(context.Context) (bool, error) { return false, nil })
	if running, err := f.Running(context.Background()); running || err != nil {
		t.Fatalf("Func probe returned %v %v", running, err)
	}
}
