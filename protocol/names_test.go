package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alexandr23/shared-canvas/domain"
)

func TestRandomIdentity(t *testing.T) {
	for i := 0; i < 200; i++ {
		parts := strings.Split(randomName(), " ")
		if assert.Len(t, parts, 2) {
			male := contains(maleFirstNames, parts[0]) && contains(maleMiddleNames, parts[1])
			female := contains(femaleFirstNames, parts[0]) && contains(femaleMiddleNames, parts[1])
			assert.True(t, male || female, "mixed name %v", parts)
		}
		assert.True(t, domain.ValidColor(randomColor()))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
