package encoding

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opendelta/payloadapplier/pkg/logging"
)

type testMessageJSON struct {
	Name string
	Age  uint
}

const (
	testMessageJSONString = `{"Name":"George","Age":67}`
	testMessageJSONName   = "George"
	testMessageJSONAge    = 67
)

func TestLoadAndUnmarshalNonExistentPath(t *testing.T) {
	err := LoadAndUnmarshal(filepath.Join(t.TempDir(), "missing"), func([]byte) error { return nil })
	if !os.IsNotExist(err) {
		t.Error("expected LoadAndUnmarshal to pass through non-existence errors")
	}
}

func TestLoadAndUnmarshalDirectory(t *testing.T) {
	if LoadAndUnmarshal(t.TempDir(), func([]byte) error { return nil }) == nil {
		t.Error("expected LoadAndUnmarshal error when loading a directory")
	}
}

func TestLoadAndUnmarshalUnmarshalFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatal("unable to write test file:", err)
	}

	err := LoadAndUnmarshal(path, func([]byte) error {
		return errors.New("unmarshal failure")
	})
	if err == nil {
		t.Error("expected LoadAndUnmarshal to propagate unmarshal error")
	}
}

func TestLoadAndUnmarshalJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte(testMessageJSONString), 0600); err != nil {
		t.Fatal("unable to write test file:", err)
	}

	var message testMessageJSON
	if err := LoadAndUnmarshal(path, func(data []byte) error {
		return json.Unmarshal(data, &message)
	}); err != nil {
		t.Fatal("LoadAndUnmarshal failed:", err)
	}

	if message.Name != testMessageJSONName || message.Age != testMessageJSONAge {
		t.Error("unmarshaled message did not match expected content:", message)
	}
}

func TestMarshalAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	message := testMessageJSON{Name: testMessageJSONName, Age: testMessageJSONAge}

	if err := MarshalAndSave(path, logging.RootLogger, func() ([]byte, error) {
		return json.Marshal(message)
	}); err != nil {
		t.Fatal("MarshalAndSave failed:", err)
	}

	var roundTripped testMessageJSON
	if err := LoadAndUnmarshal(path, func(data []byte) error {
		return json.Unmarshal(data, &roundTripped)
	}); err != nil {
		t.Fatal("unable to load saved message:", err)
	}

	if roundTripped != message {
		t.Error("round-tripped message did not match original:", roundTripped)
	}
}

func TestMarshalAndSaveMarshalFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	err := MarshalAndSave(path, logging.RootLogger, func() ([]byte, error) {
		return nil, errors.New("marshal failure")
	})
	if err == nil {
		t.Error("expected MarshalAndSave to propagate marshal error")
	}
}
