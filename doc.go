// Package stairway is an embeddable engine for durable, compensating
// workflows. A workflow ("flight") is an ordered list of steps, each with a
// forward action and an undo action. Every step boundary is journaled to a
// shared relational store, so a crashed or migrated flight resumes exactly
// where it left off on any instance of the fleet, and a failed forward leg
// unwinds through the undo actions of the steps that already ran.
//
// Typical use:
//
//	s, err := stairway.New(stairway.Config{DB: db, Logger: log})
//	s.RegisterFlight("billing.refund", newRefundFlight)
//	instances, err := s.Initialize(ctx, false, true)
//	err = s.RecoverAndStart(ctx, obsolete(instances))
//	err = s.SubmitFlight(ctx, stairway.SubmitRequest{
//		FlightID:  orderID,
//		ClassName: "billing.refund",
//		Input:     input,
//	})
//
// Step contracts, parameter maps, retry rules and fault injection live in
// the flight package; transports for cross-instance dispatch live in the
// queue package.
package stairway
