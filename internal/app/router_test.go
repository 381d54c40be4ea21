package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example"}, ParseOrigins("https://a.example"))
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example , https://b.example "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
}

func TestParseMethods(t *testing.T) {
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, parseMethods(""))
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, parseMethods("get,post,options"))
	assert.Equal(t, []string{"POST"}, parseMethods(" post "))
}
