package primp

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestDefaultClientIsSingleton(t *testing.T) {
	g := NewGomegaWithT(t)

	a := DefaultClient()
	b := DefaultClient()
	g.Expect(a).To(BeIdenticalTo(b))

	// Default configuration applies.
	g.Expect(a.Config().Verify()).To(BeTrue())
	g.Expect(a.Config().SplitCookies()).To(BeTrue())
	g.Expect(a.Cookies().Active()).To(BeTrue())
}
