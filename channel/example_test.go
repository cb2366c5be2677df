package channel_test

import (
	"fmt"

	"github.com/joeycumines/go-reactor/channel"
	"github.com/joeycumines/go-reactor/future"
)

func ExampleChannel_RecvBatch() {
	ch := channel.Unbounded[string]()
	for _, v := range []string{`a`, `b`, `c`, `d`, `e`} {
		if err := ch.TrySend(v); err != nil {
			panic(err)
		}
	}
	ch.Close()

	var batch []string
	handler := func(v string) error {
		batch = append(batch, v)
		return nil
	}
	for {
		batch = batch[:0]
		res := future.Block[future.Result[int]](ch.RecvBatch(&channel.BatchConfig{MaxSize: 2}, handler))
		if res.Value != 0 {
			fmt.Println(batch)
		}
		if res.Err != nil {
			fmt.Println(res.Err)
			break
		}
	}

	//output:
	//[a b]
	//[c d]
	//[e]
	//channel: closed
}
