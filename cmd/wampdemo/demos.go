package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/crossbario/crossbar/client"
	"github.com/crossbario/crossbar/wamp"
)

const (
	add2Procedure = "com.example.add2"
	mul2Procedure = "com.myapp.mul2"
	helloTopic    = "com.example.hello"
)

// twoInts returns the first two positional arguments of a call as integers.
func twoInts(args wamp.List) (int64, int64, error) {
	if len(args) != 2 {
		return 0, 0, &client.InvokeError{
			URI:  wamp.ErrInvalidArgument,
			Args: wamp.List{fmt.Sprintf("expected 2 arguments, got %d", len(args))},
		}
	}
	a, ok1 := wamp.AsInt64(args[0])
	b, ok2 := wamp.AsInt64(args[1])
	if !ok1 || !ok2 {
		return 0, 0, &client.InvokeError{
			URI:  wamp.ErrInvalidArgument,
			Args: wamp.List{"arguments must be integers"},
		}
	}
	return a, b, nil
}

func add2(ctx context.Context, h client.Handle, inv *wamp.Invocation) (*client.InvokeResult, error) {
	a, b, err := twoInts(inv.Arguments)
	if err != nil {
		return nil, err
	}
	return &client.InvokeResult{Args: wamp.List{a + b}}, nil
}

func mul2(ctx context.Context, h client.Handle, inv *wamp.Invocation) (*client.InvokeResult, error) {
	a, b, err := twoInts(inv.Arguments)
	if err != nil {
		return nil, err
	}
	return &client.InvokeResult{Args: wamp.List{a * b}}, nil
}

// serve registers fn and waits for ctx to end or the session to close.
func serve(ctx context.Context, s *client.Session, logger *log.Logger, procedure string, fn client.InvocationHandler) error {
	reg, err := s.Register(ctx, procedure, fn, nil)
	if err != nil {
		return fmt.Errorf("failed to register procedure: %w", err)
	}
	logger.Println("Registered procedure", reg.Procedure, "with router")

	select {
	case <-ctx.Done():
	case <-s.Done():
		logger.Print("Router gone, exiting")
		return nil
	}

	uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err = s.Unregister(uctx, reg); err != nil {
		logger.Println("Failed to unregister procedure:", err)
	}
	return nil
}

func add2Callee(ctx context.Context, c *cli.Context, s *client.Session, logger *log.Logger) error {
	return serve(ctx, s, logger, add2Procedure, add2)
}

func mul2Callee(ctx context.Context, c *cli.Context, s *client.Session, logger *log.Logger) error {
	return serve(ctx, s, logger, mul2Procedure, mul2)
}

func add2Caller(ctx context.Context, c *cli.Context, s *client.Session, logger *log.Logger) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected 2 arguments, got %d", c.NArg())
	}
	args := make(wamp.List, 2)
	for i := range args {
		n, err := strconv.ParseInt(c.Args().Get(i), 10, 64)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		args[i] = n
	}
	res, err := s.Call(ctx, add2Procedure, args, nil, nil)
	if err != nil {
		return err
	}
	if len(res.Arguments) == 0 {
		return fmt.Errorf("%s returned no result", add2Procedure)
	}
	sum, _ := wamp.AsInt64(res.Arguments[0])
	logger.Printf("%v + %v = %d", args[0], args[1], sum)
	return nil
}

func helloPublisher(ctx context.Context, c *cli.Context, s *client.Session, logger *log.Logger) error {
	count := c.Int("count")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for i := 1; i <= count; i++ {
		msg := fmt.Sprintf("Hello %d from Go", i)
		pubID, err := s.Publish(ctx, helloTopic, wamp.List{msg, i}, nil,
			wamp.SetOption(nil, wamp.OptAcknowledge, true))
		if err != nil {
			return err
		}
		logger.Println("Published", msg, "as", pubID)
		if i == count {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func helloSubscriber(ctx context.Context, c *cli.Context, s *client.Session, logger *log.Logger) error {
	sub, err := s.Subscribe(ctx, helloTopic, func(_ client.Handle, ev *wamp.Event) {
		logger.Println("Received event:", ev.Arguments)
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	logger.Println("Subscribed to", sub.Topic)

	select {
	case <-ctx.Done():
	case <-s.Done():
		logger.Print("Router gone, exiting")
		return nil
	}

	uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err = s.Unsubscribe(uctx, sub); err != nil {
		logger.Println("Failed to unsubscribe:", err)
	}
	return nil
}
