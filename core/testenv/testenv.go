// Package testenv provides general test utilities.
package testenv

import (
	"math/rand"
	"os"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/pcidma/core/logging"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

// MakeAR creates testify assert and require objects.
func MakeAR(t require.TestingT) (*assert.Assertions, *require.Assertions) {
	return assert.New(t), require.New(t)
}

// Exit flushes logs and terminates the test process.
// It should be called from TestMain:
//
//	func TestMain(m *testing.M) {
//	  testenv.Exit(m.Run())
//	}
func Exit(code int) {
	logging.Sync()
	os.Exit(code)
}
