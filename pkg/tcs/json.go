package tcs

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
)

// ConvertJSONFileToConfig opens a file.json and converts to SQLSeasoning.
func ConvertJSONFileToConfig(fileNamePath string) (*SQLSeasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &SQLSeasoning{}
	var json = jsoniter.ConfigFastest
	err = json.Unmarshal(byteValue, config)

	return config, err
}

// ConvertTOMLFileToConfig opens a file.toml and converts to SQLSeasoning.
func ConvertTOMLFileToConfig(fileNamePath string) (*SQLSeasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &SQLSeasoning{}
	err = toml.Unmarshal(byteValue, config)

	return config, err
}
