package view

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderUnknownTemplate(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err)
	rr := httptest.NewRecorder()
	assert.Error(t, engine.Render(rr, "pages/desconocida.html", TemplateData{}))
}
