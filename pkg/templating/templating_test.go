package templating_test

import (
	"testing"

	"github.com/postqode/agentdeploy/pkg/templating"
	"github.com/stretchr/testify/assert"
)

func TestMultiDocumentParsing(t *testing.T) {
	docs, err := templating.DocumentsFromFile("testdata/multi_document.yaml", templating.Variables{})
	assert.Len(t, docs, 2)
	assert.NoError(t, err)
	assert.Equal(t, `{"document":1}`, string(docs[0]))
	assert.Equal(t, `{"document":2}`, string(docs[1]))
}

func TestMultiDocumentTemplating(t *testing.T) {
	ctx := templating.Variables{
		"ingresses": []string{
			"https://foo",
			"https://bar",
		},
		"ungress": true,
	}
	docs, err := templating.DocumentsFromFile("testdata/templating.yaml", ctx)
	assert.Len(t, docs, 2)
	assert.NoError(t, err)
	assert.Equal(t, `{"ingresses":["https://foo","https://bar"]}`, string(docs[0]))
	assert.Equal(t, `{"ungresses":["https://foo","https://bar"]}`, string(docs[1]))
}

func TestConditionalDocumentIsSkipped(t *testing.T) {
	ctx := templating.Variables{
		"ingresses": []string{"https://foo"},
	}
	docs, err := templating.DocumentsFromFile("testdata/templating.yaml", ctx)
	assert.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestQuoteHelper(t *testing.T) {
	out, err := templating.Render([]byte(`value: {{quote v}}`), templating.Variables{"v": `a "b" & c`})
	assert.NoError(t, err)
	assert.Equal(t, `value: "a \"b\" & c"`, string(out))
}

func TestInvalidYAMLReportsLine(t *testing.T) {
	_, err := templating.Documents([]byte("a: 1\nb: [\n"), templating.Variables{})
	assert.Error(t, err)
}
