package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeLabel(t *testing.T) {
	cases := []struct {
		raw, crop, disease string
	}{
		// Only healthy labels keep their crop.
		{"Tomato___healthy", "Tomato", HealthyDisease},
		{"Apple___Healthy_leaf", "Apple", HealthyDisease},
		{"Corn_(maize)___healthy", "Corn_(maize)", HealthyDisease},
		// A diseased label drops the split and shows the whole raw label.
		{"Apple___Black_rot", "Unknown", "Apple   Black rot"},
		{"Tomato___Early_blight", "Unknown", "Tomato   Early blight"},
		// No separator at all.
		{"Background", "Unknown", "Background"},
		{"Background_without_leaves", "Unknown", "Background without leaves"},
		{"healthy_leaf", "Unknown", "healthy leaf"},
		// Only the first separator splits.
		{"A___B___healthy", "A", HealthyDisease},
		{"", "Unknown", ""},
	}
	for _, c := range cases {
		crop, disease := DecodeLabel(c.raw)
		assert.Equal(t, c.crop, crop, c.raw)
		assert.Equal(t, c.disease, disease, c.raw)
	}
}
