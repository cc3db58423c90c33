package extension_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"
)

func TestExtension(t *testing.T) {
	if helperMode() {
		t.Skip("running as extension helper")
	}
	RegisterFailHandler(Fail)
	RunSpecs(t, "Extension Suite")
}

var leakBaseline goleak.Option

var _ = BeforeEach(func() {
	leakBaseline = goleak.IgnoreCurrent()
})

// Every test closes its host, so no reader goroutine may outlive it.
var _ = AfterEach(func() {
	Expect(goleak.Find(leakBaseline)).To(Succeed())
})
