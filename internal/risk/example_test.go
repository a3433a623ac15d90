package risk

import (
	"context"
	"fmt"

	"go.openly.dev/pointy"
	"go.uber.org/zap"
)

// ExampleEngine_Evaluate scores a sign-in from inside a blocked zone
func ExampleEngine_Evaluate() {
	engine, err := NewEngine(StaticIntel(DefaultThreatIntel()), DefaultOptions(), zap.NewNop())
	if err != nil {
		panic(err)
	}

	v := engine.Evaluate(context.Background(), &SignRequest{
		Username:      "li.wei",
		IPAddress:     "203.0.113.10",
		Latitude:      pointy.Float64(39.95),
		Longitude:     pointy.Float64(116.45),
		TermsAccepted: true,
		Purpose:       PurposeSignIn,
	})

	fmt.Println(v.Status, v.OverallRisk, v.Approved)
	fmt.Println(*v.Reason)
	// Output:
	// rejected critical false
	// Location in blocked zone: Beijing, China (Sanctioned region)
}

// ExampleSession shows the two-step set-then-process flow
func ExampleSession() {
	engine, err := NewEngine(StaticIntel(DefaultThreatIntel()), DefaultOptions(), nil)
	if err != nil {
		panic(err)
	}
	session := NewSession(engine)

	session.SetRequest(&SignRequest{
		Username:      "newcomer",
		IPAddress:     "203.0.113.10",
		UserAgent:     "Mozilla/5.0",
		TermsAccepted: false,
		Purpose:       PurposeSignUp,
	})
	v := session.Process(context.Background())

	fmt.Println(v.Status, v.OverallRisk)
	for _, c := range v.Checks {
		fmt.Println(c.Name, c.Weight)
	}
	// Output:
	// approved medium
	// terms_not_accepted 2
}
