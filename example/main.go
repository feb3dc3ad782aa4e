package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	chatsync "github.com/cydxin/chatsync-sdk"
	"github.com/cydxin/chatsync-sdk/refserver"
)

func main() {
	// 1. 起参考后端（mysql + redis）
	dsn := "root:password@tcp(127.0.0.1:3306)/chatsync_db?charset=utf8mb4&parseTime=True&loc=Local"
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("数据库连接失败:", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	store := &refserver.Store{DB: db, RDB: rdb}
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("建表失败:", err)
	}
	// 演示房间
	db.FirstOrCreate(&refserver.Room{ID: "demo", Name: "演示房间"})

	srv := refserver.New(store)
	go func() {
		if err := srv.Router().Run(":8080"); err != nil {
			log.Fatal(err)
		}
	}()
	time.Sleep(200 * time.Millisecond)

	// 2. 起同步引擎（进程内构造一次，显式持有）
	engine := chatsync.NewEngine(
		chatsync.WithAPIBase("http://127.0.0.1:8080"),
		chatsync.WithSocketURL("ws://127.0.0.1:8080"),
		chatsync.WithCredentials(map[string]string{"user_id": "1001", "name": "演示用户"}),
		chatsync.WithPageSize(20),
		chatsync.WithReconnect(0, time.Second, 30*time.Second),
	)
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Connect(ctx); err != nil {
		log.Fatal("建连失败:", err)
	}
	engine.Bootstrap(ctx)

	// 3. 打开房间、发一条消息、读窗口
	engine.OpenRoom(ctx, "demo")

	ack, err := engine.Transport.Send(ctx, "demo", chatsync.SendInput{Content: "大家好！"})
	if err != nil {
		log.Fatal("发送失败:", err)
	}
	fmt.Printf("已发送 id=%s seq=%d\n", ack.ID, ack.Seq)

	time.Sleep(200 * time.Millisecond) // 等广播回来
	if w, ok := engine.History.Window("demo"); ok {
		fmt.Printf("窗口消息数=%d hasMore=%v cursor=%d\n", len(w.Messages), w.HasMore, w.Cursor)
	}
	for _, e := range engine.Notify.List() {
		fmt.Printf("房间 %s(%s) 最后一条: %s 未读=%d\n", e.RoomName, e.RoomID, e.LastMessage, e.Unread)
	}
}
