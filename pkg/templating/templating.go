// Package templating renders handlebars templates, and turns rendered multi-document
// YAML into JSON objects suitable for the Kubernetes API.
package templating

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/ghodss/yaml"
	yamlv2 "gopkg.in/yaml.v2"
)

type Variables map[string]interface{}

func init() {
	raymond.RegisterHelper("quote", func(value interface{}) raymond.SafeString {
		if value == nil {
			value = ""
		}
		buf := &bytes.Buffer{}
		encoder := json.NewEncoder(buf)
		encoder.SetEscapeHTML(false)
		if err := encoder.Encode(fmt.Sprint(value)); err != nil {
			return raymond.SafeString(`""`)
		}
		return raymond.SafeString(strings.TrimSuffix(buf.String(), "\n"))
	})
}

// Render executes a handlebars template. Values in double braces are HTML escaped,
// use triple braces or the quote helper for verbatim output.
func Render(data []byte, vars Variables) ([]byte, error) {
	template, err := raymond.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse template: %s", err)
	}

	output, err := template.Exec(vars)
	if err != nil {
		return nil, fmt.Errorf("execute template: %s", err)
	}

	return []byte(output), nil
}

func RenderFile(path string, vars Variables) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open file: %s", path, err)
	}
	output, err := Render(data, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return output, nil
}

// Documents renders a template and returns every non-empty YAML document in it as JSON.
func Documents(data []byte, vars Variables) ([]json.RawMessage, error) {
	rendered, err := Render(data, vars)
	if err != nil {
		errMsg := strings.ReplaceAll(err.Error(), "\n", ": ")
		return nil, errors.New(errMsg)
	}

	var content interface{}
	messages := make([]json.RawMessage, 0)

	decoder := yamlv2.NewDecoder(bytes.NewReader(rendered))
	for {
		content = nil
		err = decoder.Decode(&content)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, withErrorContext(err, string(rendered))
		}
		if content == nil {
			continue
		}

		rawdocument, err := yamlv2.Marshal(content)
		if err != nil {
			return nil, err
		}

		doc, err := yaml.YAMLToJSON(rawdocument)
		if err != nil {
			return nil, err
		}

		messages = append(messages, doc)
	}

	return messages, nil
}

func DocumentsFromFile(path string, vars Variables) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open file: %s", path, err)
	}
	docs, err := Documents(data, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// withErrorContext appends the offending line of a YAML error to the message.
func withErrorContext(err error, content string) error {
	line, scanErr := detectErrorLine(err.Error())
	if scanErr != nil {
		return err
	}
	ctx := errorContext(content, line)
	if len(ctx) == 0 {
		return err
	}
	return fmt.Errorf("%w: near %q", err, ctx)
}

func detectErrorLine(e string) (int, error) {
	var line int
	_, err := fmt.Sscanf(e, "yaml: line %d:", &line)
	return line, err
}

func errorContext(content string, line int) string {
	lines := strings.Split(content, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}
