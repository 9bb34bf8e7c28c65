package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackageBaseName(t *testing.T) {
	assert.Equal(t, "pandas", PackageBaseName("pandas"))
	assert.Equal(t, "pandas", PackageBaseName("pandas>=1.0,<2.0"))
	assert.Equal(t, "pandas", PackageBaseName("PaNdAs==2.1.0"))
	assert.Equal(t, "requests", PackageBaseName("Requests[security]>=2.31"))
	assert.Equal(t, "numpy", PackageBaseName("  numpy ~= 1.26"))
	assert.Equal(t, "scikit-learn", PackageBaseName("scikit-learn"))
	assert.Equal(t, "torch", PackageBaseName("torch @ https://example.com/torch.whl"))
	assert.Equal(t, "", PackageBaseName(""))
	assert.Equal(t, "", PackageBaseName(">=1.0"))
}

func TestAllowlistCheck(t *testing.T) {
	al := NewAllowlist([]string{"pandas", "NumPy", "scikit-learn"})

	assert.NoError(t, al.Check("pandas"))
	assert.NoError(t, al.Check("PaNdAs>=1.0,<2.0"))
	assert.NoError(t, al.Check("numpy==1.26.4"))
	assert.NoError(t, al.Check("scikit-learn"))

	assert.ErrorIs(t, al.Check("requests"), ErrPackageNotAllowed)
	assert.ErrorIs(t, al.Check(""), ErrPackageNotAllowed)
	assert.ErrorIs(t, al.Check(">=1.0"), ErrPackageNotAllowed)
}

func TestParseLanguage(t *testing.T) {
	for _, s := range []string{"python", "bash", "r"} {
		lang, err := ParseLanguage(s)
		assert.NoError(t, err)
		assert.Equal(t, Language(s), lang)
	}

	_, err := ParseLanguage("ruby")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = ParseLanguage("")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}
