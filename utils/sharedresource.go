package utils

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrGeneratorPanic 生成函数 panic，按普通失败处理，不缓存
var ErrGeneratorPanic = errors.New("shared resource generator panicked")

// SharedResource 懒加载的共享资源，保证生成函数同一时间只执行一次
//
// 生成成功后结果被缓存，之后的 Get 直接返回同一个值；生成失败不缓存，
// 下一次 Get 会重新执行生成函数。
type SharedResource[T any] struct {
	generate func(ctx context.Context) (T, error)

	group singleflight.Group
	mu    sync.Mutex
	value T
	ready bool
	gen   uint64 // Reset 计数，防止旧的生成结果回写
}

// NewSharedResource 创建共享资源
func NewSharedResource[T any](generate func(ctx context.Context) (T, error)) *SharedResource[T] {
	if generate == nil {
		panic("utils.NewSharedResource: nil generator")
	}
	return &SharedResource[T]{generate: generate}
}

// Get 获取资源，必要时触发生成
func (r *SharedResource[T]) Get(ctx context.Context) (T, error) {
	r.mu.Lock()
	if r.ready {
		v := r.value
		r.mu.Unlock()
		return v, nil
	}
	gen := r.gen
	r.mu.Unlock()

	// 生成函数不跟随单个调用方的取消
	genCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(strconv.FormatUint(gen, 10), func() (_ interface{}, err error) {
		// DoChan 在新的 goroutine 中重新抛出 panic，调用方无法 recover
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v", ErrGeneratorPanic, p)
			}
		}()

		// 上一次执行可能刚刚写入缓存
		r.mu.Lock()
		if r.ready && r.gen == gen {
			v := r.value
			r.mu.Unlock()
			return v, nil
		}
		r.mu.Unlock()

		v, err := r.generate(genCtx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.gen == gen {
			r.value = v
			r.ready = true
		}
		r.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek 返回已缓存的值，不触发生成
func (r *SharedResource[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.ready
}

// Reset 清空缓存，下一次 Get 重新生成
func (r *SharedResource[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	r.value = zero
	r.ready = false
	r.gen++
}
