package executor_test

import (
	"fmt"
	"strings"

	"github.com/joeycumines/go-reactor/channel"
	"github.com/joeycumines/go-reactor/executor"
	"github.com/joeycumines/go-reactor/future"
)

func ExampleRun() {
	ex, err := executor.New()
	if err != nil {
		panic(err)
	}
	defer ex.Close()

	ch := channel.Bounded[int](1)
	executor.Spawn[error](ex, ch.Send(21), "sender").Detach()

	v := executor.Run(ex, future.Map[future.Result[int]](ch.Recv(), func(res future.Result[int]) int {
		return res.Value * 2
	}))
	fmt.Println(v)

	//output:
	//42
}

func ExampleSpawnBlocking() {
	ex, err := executor.New()
	if err != nil {
		panic(err)
	}
	defer ex.Close()

	task := executor.SpawnBlocking(ex, func() string {
		return strings.ToUpper(`done`)
	}, "upper")

	res := executor.Run[future.Result[string]](ex, task)
	fmt.Println(res.Value, res.Err)

	//output:
	//DONE <nil>
}
